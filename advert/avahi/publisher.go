package avahi

import (
	"bytes"
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"time"

	"github.com/bornholm/lanupdate/advert"
	"github.com/bornholm/lanupdate/fsx"
	"github.com/pkg/errors"
)

const (
	DefaultServicesDir = "/etc/avahi/services"
	FileName           = "eos-updater.service"
)

const header = `<?xml version="1.0" standalone='no'?>` + "\n" +
	`<!DOCTYPE service-group SYSTEM "avahi-service.dtd">` + "\n"

type serviceGroup struct {
	XMLName xml.Name    `xml:"service-group"`
	Name    serviceName `xml:"name"`
	Service service     `xml:"service"`
}

type serviceName struct {
	ReplaceWildcards string `xml:"replace-wildcards,attr"`
	Value            string `xml:",chardata"`
}

type service struct {
	Type       string   `xml:"type"`
	Port       int      `xml:"port"`
	TXTRecords []string `xml:"txt-record"`
}

// Render returns the Avahi service file for the descriptor.
func Render(d advert.Descriptor) ([]byte, error) {
	group := serviceGroup{
		Name: serviceName{
			ReplaceWildcards: "yes",
			Value:            d.Name,
		},
		Service: service{
			Type:       d.Type,
			Port:       d.Port,
			TXTRecords: d.TXTRecords(),
		},
	}

	var buf bytes.Buffer

	buf.WriteString(header)

	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")

	if err := encoder.Encode(group); err != nil {
		return nil, errors.WithStack(err)
	}

	buf.WriteString("\n")

	return buf.Bytes(), nil
}

// Publisher maintains a single service file in the Avahi services directory.
// The file name is fixed so that updates are seen as in place changes.
type Publisher struct {
	path string
	now  func() time.Time
}

func NewPublisher(dir string) *Publisher {
	return &Publisher{
		path: filepath.Join(dir, FileName),
		now:  time.Now,
	}
}

func (p *Publisher) Path() string {
	return p.path
}

// Publish implements [advert.Publisher].
func (p *Publisher) Publish(ctx context.Context, d advert.Descriptor) error {
	data, err := Render(d)
	if err != nil {
		return errors.WithStack(err)
	}

	var previous time.Time
	if info, err := os.Stat(p.path); err == nil {
		previous = info.ModTime()
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create directory '%s'", dir)
	}

	if err := fsx.WriteFileAtomic(p.path, data, 0o644); err != nil {
		return errors.WithStack(err)
	}

	// Consumers poll the modification time, which has to move forward even
	// on file systems with a coarse timestamp granularity.
	info, err := os.Stat(p.path)
	if err != nil {
		return errors.WithStack(err)
	}

	if !previous.IsZero() && !info.ModTime().After(previous) {
		mtime := previous.Add(time.Second)
		if now := p.now(); now.After(mtime) {
			mtime = now
		}

		if err := os.Chtimes(p.path, mtime, mtime); err != nil {
			return errors.Wrapf(err, "could not bump modification time of '%s'", p.path)
		}
	}

	return nil
}

// Withdraw implements [advert.Publisher].
func (p *Publisher) Withdraw(ctx context.Context) error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "could not remove '%s'", p.path)
	}

	return nil
}

var _ advert.Publisher = &Publisher{}
