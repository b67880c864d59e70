package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsClaimed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_jobs_claimed_total", Help: "Jobs claimed by this worker"})
	JobsCompleted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "petsim_jobs_failed_total", Help: "Job runs that failed"}, []string{"job"})
	StaleLocksReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_stale_locks_reclaimed_total", Help: "In-progress jobs returned to pending after their lock expired"})
	TickDuration        = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "petsim_tick_duration_seconds",
		Help:    "Duration of one job run",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	PetsDecayed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_pets_decayed_total", Help: "Pets updated by the decay tick"})
	PetsLost         = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_pets_lost_total", Help: "Pets that ran away"})
	AutoMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_auto_messages_sent_total", Help: "Unprompted pet messages appended to chats"})
	Notifications    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "petsim_notifications_total", Help: "Owner notifications by result"}, []string{"result"})
	WeatherLookups   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "petsim_weather_lookups_total", Help: "Weather resolutions by result"}, []string{"result"})
	EmailsSent       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "petsim_emails_sent_total", Help: "Outbox deliveries by result"}, []string{"result"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "petsim_api_rate_limit_rejects_total", Help: "Admin API requests rejected by the owner rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			StaleLocksReclaimed,
			TickDuration,
			PetsDecayed,
			PetsLost,
			AutoMessagesSent,
			Notifications,
			WeatherLookups,
			EmailsSent,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
