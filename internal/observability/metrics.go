package observability

type Metrics interface {
	ObserveHTTP(method, route string, status int, durMs float64)
	ObserveEnqueue(durMs float64, ok bool)
	ObserveProcess(durMs float64, ok bool)
	ObserveLookup(source string, durMs float64)
	IncCacheHit()
	IncCacheMiss()
}

type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) ObserveHTTP(string, string, int, float64) {}
func (Noop) ObserveEnqueue(float64, bool)             {}
func (Noop) ObserveProcess(float64, bool)             {}
func (Noop) ObserveLookup(string, float64)            {}
func (Noop) IncCacheHit()                             {}
func (Noop) IncCacheMiss()                            {}
