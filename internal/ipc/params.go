package ipc

import "github.com/jeeves-cluster-organization/agentkernel/internal/typeutil"

// params is a thin typed-accessor wrapper over a Request's decoded
// map[string]any, built on typeutil's safe assertions so a malformed or
// absent wire field degrades to a default instead of panicking the
// connection handler.
type params struct {
	m map[string]any
}

func newParams(raw map[string]any) params {
	if raw == nil {
		raw = map[string]any{}
	}
	return params{m: raw}
}

func (p params) str(key string) string {
	return typeutil.SafeStringDefault(p.m[key], "")
}

func (p params) strDefault(key, def string) string {
	return typeutil.SafeStringDefault(p.m[key], def)
}

func (p params) boolDefault(key string, def bool) bool {
	return typeutil.SafeBoolDefault(p.m[key], def)
}

func (p params) int64Default(key string, def int64) int64 {
	return typeutil.SafeInt64Default(p.m[key], def)
}

func (p params) float64Default(key string, def float64) float64 {
	return typeutil.SafeFloat64Default(p.m[key], def)
}
