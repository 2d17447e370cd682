package classifier

import "go.uber.org/zap"

// Registry is the set of classifiers available to request handlers. It is
// built once at startup and never mutated.
type Registry struct {
	models map[Organ]*Classifier
}

// NewRegistry snapshots models. Nil entries mark organs whose model failed
// to load.
func NewRegistry(models map[Organ]*Classifier) *Registry {
	snapshot := make(map[Organ]*Classifier, len(models))
	for organ, c := range models {
		if c != nil {
			snapshot[organ] = c
		}
	}
	return &Registry{models: snapshot}
}

// LoadRegistry loads one classifier per organ from paths. Missing or broken
// files leave that organ unavailable.
func LoadRegistry(paths map[Organ]string, opts Options, logger *zap.Logger) *Registry {
	models := make(map[Organ]*Classifier, len(paths))
	for _, organ := range Organs() {
		path, ok := paths[organ]
		if !ok || path == "" {
			logger.Warn("no model path configured", zap.String("organ", string(organ)))
			continue
		}
		models[organ] = Load(path, organ, opts, logger)
	}
	return NewRegistry(models)
}

// Get returns the organ's classifier and whether it is available.
func (r *Registry) Get(organ Organ) (*Classifier, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.models[organ]
	return c, ok
}

// Status reports availability for every supported organ.
func (r *Registry) Status() map[Organ]bool {
	status := make(map[Organ]bool, len(labelTables))
	for _, organ := range Organs() {
		_, ok := r.Get(organ)
		status[organ] = ok
	}
	return status
}
