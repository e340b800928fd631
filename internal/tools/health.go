package tools

// Health summarizes the readiness of one external tool.
type Health struct {
	Tool   string `json:"tool"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(tool string) Health {
	return Health{Tool: tool, Ready: true}
}

// Unhealthy constructs an unready Health record with context detail.
func Unhealthy(tool, detail string) Health {
	return Health{Tool: tool, Ready: false, Detail: detail}
}
