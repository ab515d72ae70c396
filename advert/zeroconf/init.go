package zeroconf

import (
	"net"

	"github.com/bornholm/lanupdate/advert"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

const Type advert.Type = "zeroconf"

func init() {
	advert.Register(Type, CreatePublisherFromOptions)
}

type Options struct {
	Domain     string   `mapstructure:"domain" validate:"required,endswith=."`
	Interfaces []string `mapstructure:"interfaces" validate:"dive,required"`
}

func CreatePublisherFromOptions(options any) (advert.Publisher, error) {
	opts := Options{
		Domain: DefaultDomain,
	}

	if options != nil {
		if err := mapstructure.Decode(options, &opts); err != nil {
			return nil, errors.Wrapf(err, "could not parse '%s' publisher options", Type)
		}
	}

	validate := validator.New()
	if err := validate.Struct(&opts); err != nil {
		return nil, errors.Wrap(err, "could not validate zeroconf publisher options")
	}

	var ifaces []net.Interface

	for _, name := range opts.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, errors.Wrapf(err, "could not find network interface '%s'", name)
		}

		ifaces = append(ifaces, *iface)
	}

	return NewPublisher(opts.Domain, ifaces), nil
}
