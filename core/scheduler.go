package core

import "runtime"

// Yield hands the processor back to the scheduler so other tasks (the
// dispatcher, the level compensator, connection handlers) can run during a
// long pulse train. Pulse loops call it only at their yield boundary.
var Yield = runtime.Gosched
