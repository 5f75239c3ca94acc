package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth groups the collectors the auth core reports to. A nil *Auth is valid
// and records nothing.
type Auth struct {
	validations  *prometheus.CounterVec
	logins       *prometheus.CounterVec
	versionBumps prometheus.Counter
	cacheLookups *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
}

func NewAuth(reg prometheus.Registerer) *Auth {
	f := promauto.With(reg)
	return &Auth{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsync",
			Subsystem: "auth",
			Name:      "token_validations_total",
			Help:      "Token validations by outcome.",
		}, []string{"result"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsync",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		versionBumps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "kvsync",
			Subsystem: "auth",
			Name:      "global_version_bumps_total",
			Help:      "Force-relogin version bumps performed by this process.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsync",
			Subsystem: "auth",
			Name:      "cache_lookups_total",
			Help:      "Local cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsync",
			Subsystem: "auth",
			Name:      "store_errors_total",
			Help:      "Durable store errors absorbed or propagated, by check.",
		}, []string{"check"}),
	}
}

func (m *Auth) Validation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Auth) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Auth) VersionBump() {
	if m == nil {
		return
	}
	m.versionBumps.Inc()
}

func (m *Auth) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Auth) StoreError(check string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(check).Inc()
}
