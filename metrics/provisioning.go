package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/device-provisioning-backend/provisioner"
)

// ProvisioningMetrics records finished sessions. It implements
// provisioner.Recorder.
type ProvisioningMetrics struct {
	sessions     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	warnings     prometheus.Counter
	archives     *prometheus.CounterVec
}

var _ provisioner.Recorder = (*ProvisioningMetrics)(nil)

var failureKinds = []struct {
	err   error
	label string
}{
	{provisioner.ErrUnsupportedDevice, "unsupported_device"},
	{provisioner.ErrUnsupportedMode, "unsupported_mode"},
	{provisioner.ErrConnection, "connection"},
	{provisioner.ErrDeviceCommunication, "device_communication"},
	{provisioner.ErrNvmInitFailed, "nvm_init"},
	{provisioner.ErrKeyGenFailed, "key_gen"},
	{provisioner.ErrCsrGenFailed, "csr_gen"},
	{provisioner.ErrCertificateAuthority, "certificate_authority"},
	{provisioner.ErrNvmWriteFailed, "nvm_write"},
	{provisioner.ErrNvmVerifyFailed, "nvm_verify"},
	{provisioner.ErrUnexpectedFault, "unexpected"},
}

// KindLabel returns the metric label of a failure kind.
func KindLabel(kind error) string {
	if kind == nil {
		return "none"
	}
	for _, k := range failureKinds {
		if errors.Is(kind, k.err) {
			return k.label
		}
	}
	return "other"
}

// NewProvisioningMetrics creates the collectors and registers them on reg.
func NewProvisioningMetrics(namespace string, reg prometheus.Registerer) (*ProvisioningMetrics, error) {
	pm := &ProvisioningMetrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "sessions_total",
			Help:      "Finished provisioning sessions.",
		}, []string{"mode", "success"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "session_duration_seconds",
			Help:      "Provisioning session duration in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode", "success"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "step_failures_total",
			Help:      "Failed provisioning sessions by step and failure kind.",
		}, []string{"mode", "step", "kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "cleanup_warnings_total",
			Help:      "Errors raised while releasing the debug probe.",
		}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "records_total",
			Help:      "Provisioning records archived.",
		}, []string{"success"}),
	}

	for _, c := range []prometheus.Collector{pm.sessions, pm.duration, pm.stepFailures, pm.warnings, pm.archives} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

func (pm *ProvisioningMetrics) ObserveProvisioning(o provisioner.Outcome) {
	mode := o.Mode.String()
	success := strconv.FormatBool(o.Success)
	pm.sessions.WithLabelValues(mode, success).Inc()
	pm.duration.WithLabelValues(mode, success).Observe(o.Duration.Seconds())
	if !o.Success {
		pm.stepFailures.WithLabelValues(mode, o.Step.String(), KindLabel(o.Kind)).Inc()
	}
	if o.Warnings > 0 {
		pm.warnings.Add(float64(o.Warnings))
	}
}

// ObserveArchive counts an archive attempt.
func (pm *ProvisioningMetrics) ObserveArchive(err error) {
	pm.archives.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
}
