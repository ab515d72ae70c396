// Package all registers every advertisement publisher.
package all

import (
	_ "github.com/bornholm/lanupdate/advert/avahi"
	_ "github.com/bornholm/lanupdate/advert/zeroconf"
)
