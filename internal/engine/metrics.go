package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediamill_jobs_submitted_total",
			Help: "Total number of jobs accepted for execution.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediamill_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediamill_job_duration_seconds",
			Help:    "Wall-clock job execution time from running to terminal.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediamill_queue_depth",
			Help: "Jobs currently waiting for a worker.",
		},
	)

	runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediamill_running_jobs",
			Help: "Jobs currently executing.",
		},
	)

	sweptArtifacts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediamill_swept_artifacts_total",
			Help: "Artifacts removed by the retention sweeper.",
		},
	)

	reapedJobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediamill_reaped_jobs_total",
			Help: "Terminal job records removed by the retention sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(runningJobs)
	prometheus.MustRegister(sweptArtifacts)
	prometheus.MustRegister(reapedJobs)
}
