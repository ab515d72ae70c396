package avahi

import (
	"github.com/bornholm/lanupdate/advert"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

const Type advert.Type = "avahi"

func init() {
	advert.Register(Type, CreatePublisherFromOptions)
}

type Options struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

func CreatePublisherFromOptions(options any) (advert.Publisher, error) {
	opts := Options{}

	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, errors.Wrapf(err, "could not parse '%s' publisher options", Type)
	}

	validate := validator.New()
	if err := validate.Struct(&opts); err != nil {
		return nil, errors.Wrap(err, "could not validate avahi publisher options")
	}

	return NewPublisher(opts.Dir), nil
}
