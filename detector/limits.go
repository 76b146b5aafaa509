package detector

// Limits are the compute limits a scan device must respect.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup" yaml:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x" yaml:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension" yaml:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size" yaml:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size" yaml:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size" yaml:"max_buffer_size"`
}

// MaxWorkgroupLength is the widest 1D workgroup the limits allow: bounded by
// the X dimension, the invocation count, and workgroup storage for a padded
// power-of-two array of 4-byte elements.
func (l Limits) MaxWorkgroupLength() int {
	n := l.MaxComputeWorkgroupSizeX
	if l.MaxComputeInvocationsPerWorkgroup < n {
		n = l.MaxComputeInvocationsPerWorkgroup
	}
	if l.MaxComputeWorkgroupStorageSize > 0 {
		// the padded array may be up to twice n, plus one element of total
		for n > 1 && 4*(2*n+1) > l.MaxComputeWorkgroupStorageSize {
			n /= 2
		}
	}
	return int(n)
}

// MaxWorkgroups is the dispatch limit of one dimension.
func (l Limits) MaxWorkgroups() int {
	return int(l.MaxComputeWorkgroupsPerDimension)
}

// Recommendations are conservative launch parameters for the adapter.
type Recommendations struct {
	// WorkgroupLength is the largest power of two within the limits.
	WorkgroupLength uint32 `json:"workgroup_length" yaml:"workgroup_length"`
	// BudgetBytes is a soft budget for stage buffers.
	BudgetBytes uint64 `json:"budget_bytes" yaml:"budget_bytes"`
}

func chooseWorkgroup(l Limits) uint32 {
	max := uint32(l.MaxWorkgroupLength())
	for _, c := range []uint32{1024, 512, 256, 128, 64, 32, 16, 8, 4, 2} {
		if c <= max {
			return c
		}
	}
	// absolute portability fallback
	return 1
}
