package stage

// Health is a worker's answer to a readiness check.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports a worker that can take jobs.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy reports a worker that cannot take jobs, with the reason in detail.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }
