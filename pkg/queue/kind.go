package queue

import "context"

// Submitter accepts jobs. *Queue implements it.
type Submitter interface {
	Submit(ctx context.Context, jobType string, payload any, opts ...SubmitOption) (*JobHandle, error)
}

// Kind is a typed job descriptor. Producers and processors built from the same Kind
// agree on the payload type at compile time.
//
//	var DeleteAccount = queue.NewKind[DeleteAccountPayload]("DeleteAccount")
//
//	DeleteAccount.Submit(ctx, q, DeleteAccountPayload{UserID: id})
//	registry.Register(DeleteAccount.Handler(svc.deleteAccount))
type Kind[T any] struct {
	name string
}

// NewKind declares a job type. name is persisted with every job and must stay stable.
func NewKind[T any](name string) Kind[T] {
	return Kind[T]{name: name}
}

// Name returns the wire name of the job type.
func (k Kind[T]) Name() string {
	return k.name
}

// Handler returns a Handler decoding payloads into T.
func (k Kind[T]) Handler(fn HandlerFunc[T]) Handler {
	return NewHandler(k.name, fn)
}

// Submit enqueues payload as a job of this kind.
func (k Kind[T]) Submit(ctx context.Context, q Submitter, payload T, opts ...SubmitOption) (*JobHandle, error) {
	return q.Submit(ctx, k.name, payload, opts...)
}
