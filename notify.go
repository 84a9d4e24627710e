package aio

// NotifyKind selects how completion of a request is signaled, beyond being
// observable through PollError.
type NotifyKind uint8

const (
	// NotifyNone delivers no notification.
	NotifyNone NotifyKind = iota

	// NotifyEventFD adds one to an eventfd counter on completion
	// (IOCB_FLAG_RESFD).
	NotifyEventFD

	// NotifySignal carries POSIX-style signal delivery parameters. The value
	// is stored and forwarded unmodified; Linux native AIO itself delivers
	// no signal, so this kind only has effect for consumers that interpret
	// the descriptor themselves.
	NotifySignal
)

// Notify is an opaque completion-notification descriptor. This package
// stores and forwards it; it never interprets the parameters.
type Notify struct {
	Kind  NotifyKind
	FD    int32 // eventfd, NotifyEventFD only
	Signo int32 // NotifySignal only
	Value int   // NotifySignal only
}

// NoNotify returns the descriptor for no completion notification.
func NoNotify() Notify {
	return Notify{Kind: NotifyNone}
}

// NotifyViaEventFD returns a descriptor that ticks the given eventfd once
// per completed request.
func NotifyViaEventFD(fd int32) Notify {
	return Notify{Kind: NotifyEventFD, FD: fd}
}

// NotifyViaSignal returns a signal-based descriptor with the given signal
// number and payload value.
func NotifyViaSignal(signo int32, value int) Notify {
	return Notify{Kind: NotifySignal, Signo: signo, Value: value}
}

// resFD returns the eventfd to forward to the native layer, or -1.
func (n Notify) resFD() int32 {
	if n.Kind == NotifyEventFD {
		return n.FD
	}
	return -1
}
