package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// AttributeProvider contributes a tag set to exported telemetry. Providers
// are evaluated in configuration order; on key collision, later providers
// override earlier ones.
type AttributeProvider interface {
	Attributes() []attribute.KeyValue
}

// staticAttributes serves fixed key-value pairs from configuration.
type staticAttributes struct {
	attrs []attribute.KeyValue
}

func (p staticAttributes) Attributes() []attribute.KeyValue {
	return p.attrs
}

// environmentAttributes reads the configured environment variables at
// collection time.
type environmentAttributes struct {
	variables []string
}

func (p environmentAttributes) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(p.variables))
	for _, name := range p.variables {
		attrs = append(attrs, attribute.String("env."+name, os.Getenv(name)))
	}
	return attrs
}

// hostAttributes tags samples with the host name.
type hostAttributes struct{}

func (hostAttributes) Attributes() []attribute.KeyValue {
	hostname, _ := os.Hostname()
	return []attribute.KeyValue{attribute.String("host.name", hostname)}
}

// processAttributes tags samples with the process id.
type processAttributes struct{}

func (processAttributes) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.Int("process.pid", os.Getpid())}
}

// threadAttributes tags samples with the calling goroutine's id, parsed
// from the runtime stack header. Best effort; unknown ids report 0.
type threadAttributes struct{}

func (threadAttributes) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.Int64("thread.id", goroutineID())}
}

func goroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// The header is "goroutine <id> [...".
	fields := bytes.Fields(buf)
	if len(fields) >= 2 {
		if id, err := strconv.ParseInt(string(fields[1]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// configAttributes derives tags from the loaded msc configuration, so
// samples from differently-configured processes can be told apart.
type configAttributes struct {
	attrs []attribute.KeyValue
}

func (p configAttributes) Attributes() []attribute.KeyValue {
	return p.attrs
}

// newAttributeProvider realizes one attribute provider config entry.
// profiles carries the configured profile names for the msc_config
// provider.
func newAttributeProvider(cfg AttributeProviderConfig, profiles []string) (AttributeProvider, error) {
	switch cfg.Type {
	case "static":
		var attrs []attribute.KeyValue
		if raw, ok := cfg.Options["attributes"].(map[string]any); ok {
			keys := make([]string, 0, len(raw))
			for key := range raw {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				attrs = append(attrs, attribute.String(key, fmt.Sprint(raw[key])))
			}
		}
		return staticAttributes{attrs: attrs}, nil

	case "environment_variables":
		var variables []string
		if raw, ok := cfg.Options["variables"].([]any); ok {
			for _, value := range raw {
				variables = append(variables, fmt.Sprint(value))
			}
		}
		return environmentAttributes{variables: variables}, nil

	case "host":
		return hostAttributes{}, nil

	case "process":
		return processAttributes{}, nil

	case "thread":
		return threadAttributes{}, nil

	case "msc_config":
		sorted := append([]string(nil), profiles...)
		sort.Strings(sorted)
		return configAttributes{attrs: []attribute.KeyValue{
			attribute.StringSlice("msc.profiles", sorted),
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown attribute provider type %q", types.ErrInvalidArgument, cfg.Type)
	}
}

// mergeAttributes combines provider tag sets; later providers win on
// collision.
func mergeAttributes(providers []AttributeProvider) []attribute.KeyValue {
	merged := make(map[attribute.Key]attribute.KeyValue)
	var order []attribute.Key
	for _, provider := range providers {
		for _, kv := range provider.Attributes() {
			if _, seen := merged[kv.Key]; !seen {
				order = append(order, kv.Key)
			}
			merged[kv.Key] = kv
		}
	}
	attrs := make([]attribute.KeyValue, 0, len(order))
	for _, key := range order {
		attrs = append(attrs, merged[key])
	}
	return attrs
}
