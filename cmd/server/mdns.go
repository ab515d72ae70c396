package main

import (
	"github.com/bornholm/lanupdate/advert"
	"github.com/bornholm/lanupdate/advert/zeroconf"
	"github.com/pkg/errors"
)

func createMDNSPublisher(interfaces []string) (advert.Publisher, error) {
	options := map[string]any{
		"domain": zeroconf.DefaultDomain,
	}

	if len(interfaces) > 0 {
		options["interfaces"] = interfaces
	}

	publisher, err := advert.New(zeroconf.Type, options)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return publisher, nil
}
