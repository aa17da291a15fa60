package cel

import (
	"net"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// NewKeyEnvironment creates the CEL environment for key expressions. It includes:
//   - Request variables: tier, ip, path, method, user_agent, user_id
//   - Custom functions: path_segment, ip_prefix
func NewKeyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("tier", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("user_id", cel.StringType),

		// path_segment: the n-th non-empty path segment, or "" when absent.
		// Usage: path_segment(path, 2) on "/api/ml/predict" returns "predict"
		cel.Function("path_segment",
			cel.Overload("path_segment_string_int",
				[]*cel.Type{cel.StringType, cel.IntType},
				cel.StringType,
				cel.BinaryBinding(func(pathVal, idxVal ref.Val) ref.Val {
					p := pathVal.Value().(string)
					idx := idxVal.Value().(int64)
					segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
					if idx < 0 || idx >= int64(len(segments)) {
						return types.String("")
					}
					return types.String(segments[idx])
				}),
			),
		),

		// ip_prefix: masks an address to its network prefix so that clients
		// sharing a subnet share a quota. Unparseable input is returned as is.
		// Usage: ip_prefix(ip, 64) on "2001:db8::1" returns "2001:db8::/64"
		cel.Function("ip_prefix",
			cel.Overload("ip_prefix_string_int",
				[]*cel.Type{cel.StringType, cel.IntType},
				cel.StringType,
				cel.BinaryBinding(func(ipVal, bitsVal ref.Val) ref.Val {
					ipStr := ipVal.Value().(string)
					bits := int(bitsVal.Value().(int64))

					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.String(ipStr)
					}
					size := 128
					if v4 := ip.To4(); v4 != nil {
						ip, size = v4, 32
					}
					if bits < 0 || bits > size {
						return types.String(ipStr)
					}
					network := &net.IPNet{IP: ip.Mask(net.CIDRMask(bits, size)), Mask: net.CIDRMask(bits, size)}
					return types.String(network.String())
				}),
			),
		),
	)
}

// BuildKeyActivation creates a CEL activation map for a request.
func BuildKeyActivation(tier string, d ratelimit.Descriptor) map[string]any {
	return map[string]any{
		"tier":       tier,
		"ip":         d.IP,
		"path":       d.Path,
		"method":     d.Method,
		"user_agent": d.UserAgent,
		"user_id":    d.UserID,
	}
}
