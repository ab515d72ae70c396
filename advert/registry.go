package advert

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotRegistered      = errors.New("not registered")
	ErrAdvertisementWrite = errors.New("could not update advertisement")
)

// Publisher hands descriptors over to a discovery mechanism.
//
// Publish replaces any previously published descriptor. Withdraw must succeed
// when nothing is published.
type Publisher interface {
	Publish(ctx context.Context, d Descriptor) error
	Withdraw(ctx context.Context) error
}

type Type string

type Factory func(options any) (Publisher, error)

var factories = make(map[Type]Factory, 0)

func Register(publisherType Type, factory Factory) {
	factories[publisherType] = factory
}

func New(publisherType Type, options any) (Publisher, error) {
	factory, exists := factories[publisherType]
	if !exists {
		return nil, errors.Wrapf(ErrNotRegistered, "no publisher associated with type '%s'", publisherType)
	}

	publisher, err := factory(options)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return publisher, nil
}
