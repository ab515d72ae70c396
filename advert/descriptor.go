package advert

import (
	"slices"
	"strconv"
	"time"

	"github.com/bornholm/lanupdate/probe"
)

const (
	ServiceName = "EOS update service on %h"
	ServiceType = "_eos_updater._tcp"
	TXTVersion  = "1"

	TXTKeyVersion             = "eos_txt_version"
	TXTKeyOSTreePath          = "eos_ostree_path"
	TXTKeyHeadCommitTimestamp = "eos_head_commit_timestamp"
	TXTKeyFingerprint         = "eos_fingerprint"
)

// Descriptor is what gets published for discovery peers.
type Descriptor struct {
	// Name may contain the Avahi %h wildcard for the host name.
	Name       string
	Type       string
	Port       int
	OSTreePath string
	// HeadCommitTimestamp is the modification time of the newest tracked ref.
	HeadCommitTimestamp time.Time
	// Fingerprint is the freshness token of the repository state.
	Fingerprint string
}

// NewDescriptor builds the descriptor advertising state on the given port.
func NewDescriptor(port int, state probe.State) Descriptor {
	return Descriptor{
		Name:                ServiceName,
		Type:                ServiceType,
		Port:                port,
		OSTreePath:          state.OSTreePath,
		HeadCommitTimestamp: state.Latest,
		Fingerprint:         state.Token,
	}
}

// TXTRecords returns the DNS-SD TXT records, version first.
func (d Descriptor) TXTRecords() []string {
	records := []string{TXTKeyVersion + "=" + TXTVersion}

	if d.OSTreePath != "" {
		records = append(records, TXTKeyOSTreePath+"="+d.OSTreePath)
	}

	records = append(records,
		TXTKeyHeadCommitTimestamp+"="+strconv.FormatInt(d.HeadCommitTimestamp.Unix(), 10),
		TXTKeyFingerprint+"="+d.Fingerprint,
	)

	return records
}

func (d Descriptor) Equal(other Descriptor) bool {
	return d.Name == other.Name &&
		d.Type == other.Type &&
		d.Port == other.Port &&
		d.HeadCommitTimestamp.Equal(other.HeadCommitTimestamp) &&
		slices.Equal(d.TXTRecords(), other.TXTRecords())
}
