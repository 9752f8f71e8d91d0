package logger

// Null discards everything. It is the default when no logger is configured.
type Null struct{}

func NewNull() Null { return Null{} }

func (Null) Debug(string, ...any) {}
func (Null) Info(string, ...any)  {}
func (Null) Warn(string, ...any)  {}
func (Null) Error(string, ...any) {}
