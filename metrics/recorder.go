package metrics

// Recorder receives the daemon's observable events. Components default to
// NoopRecorder so that metrics stay optional.
type Recorder interface {
	ObserveRequest(method string, status int)
	SetPendingRequests(n int64)
	IncDescriptorWrite(publisher string)
	IncDescriptorWithdraw(publisher string)
	IncDescriptorFailure(publisher string)
	SetState(state string)
}

type NoopRecorder struct{}

func (NoopRecorder) ObserveRequest(string, int)   {}
func (NoopRecorder) SetPendingRequests(int64)     {}
func (NoopRecorder) IncDescriptorWrite(string)    {}
func (NoopRecorder) IncDescriptorWithdraw(string) {}
func (NoopRecorder) IncDescriptorFailure(string)  {}
func (NoopRecorder) SetState(string)              {}

var _ Recorder = NoopRecorder{}
