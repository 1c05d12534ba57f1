package surrogate

// DataStore associates configurations with instance feature vectors and
// target values. Samples are a many-to-many mapping: several samples may
// reference the same configuration under different instances. The store
// exposes the joined (configuration ⧺ instance features) rows that the
// forest trains on, and the raw instance table that marginalized
// predictions iterate over.
type DataStore struct {
	configWidth   int
	instanceWidth int

	configs   [][]float64
	instances [][]float64

	rows    [][]float64
	targets []float64
}

// NewDataStore creates an empty store for the given configuration and
// instance feature widths.
func NewDataStore(configWidth, instanceWidth int) *DataStore {
	return &DataStore{
		configWidth:   configWidth,
		instanceWidth: instanceWidth,
	}
}

// ImportConfigurations stores configuration vectors by index.
func (s *DataStore) ImportConfigurations(configs [][]float64) error {
	const op = "DataStore.ImportConfigurations"
	for i, c := range configs {
		if len(c) != s.configWidth {
			return newDimensionMismatchf(op, "configuration %d has %d entries, store expects %d", i, len(c), s.configWidth)
		}
	}
	s.configs = copyRows(configs)
	return nil
}

// ImportInstances stores instance feature vectors by index. When no
// instances are supplied a single all-zero vector is stored so that every
// configuration still joins against exactly one instance.
func (s *DataStore) ImportInstances(features [][]float64) error {
	const op = "DataStore.ImportInstances"
	if len(features) == 0 {
		s.instances = [][]float64{make([]float64, s.instanceWidth)}
		return nil
	}
	for i, f := range features {
		if len(f) != s.instanceWidth {
			return newDimensionMismatchf(op, "instance %d has %d features, store expects %d", i, len(f), s.instanceWidth)
		}
	}
	s.instances = copyRows(features)
	return nil
}

// AddDataPoints joins each (configuration index, instance index) pair into
// one training row with its target value. All pairs are validated before
// any row is added.
func (s *DataStore) AddDataPoints(pairs [][2]int, targets []float64) error {
	const op = "DataStore.AddDataPoints"
	if len(pairs) != len(targets) {
		return newDimensionMismatchf(op, "got %d pairs but %d targets", len(pairs), len(targets))
	}
	for i, p := range pairs {
		if p[0] < 0 || p[0] >= len(s.configs) {
			return newDimensionMismatchf(op, "sample %d references configuration %d, store holds %d", i, p[0], len(s.configs))
		}
		if p[1] < 0 || p[1] >= len(s.instances) {
			return newDimensionMismatchf(op, "sample %d references instance %d, store holds %d", i, p[1], len(s.instances))
		}
	}

	for i, p := range pairs {
		row := make([]float64, 0, s.configWidth+s.instanceWidth)
		row = append(row, s.configs[p[0]]...)
		row = append(row, s.instances[p[1]]...)
		s.rows = append(s.rows, row)
		s.targets = append(s.targets, targets[i])
	}
	return nil
}

// Rows returns the joined training rows.
func (s *DataStore) Rows() [][]float64 { return s.rows }

// Targets returns the target values, aligned with Rows.
func (s *DataStore) Targets() []float64 { return s.targets }

// Instances returns the stored instance feature table.
func (s *DataStore) Instances() [][]float64 { return s.instances }

// NumInstances returns the number of stored instances.
func (s *DataStore) NumInstances() int { return len(s.instances) }

// InstanceWidth returns the instance feature vector width.
func (s *DataStore) InstanceWidth() int { return s.instanceWidth }

func copyRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
