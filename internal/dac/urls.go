package dac

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// URLConfig names the public hosts that serve deployment data.
type URLConfig struct {
	Thredds      string
	PublicErddap string
}

// DAP returns the THREDDS OPeNDAP URL of the deployment aggregation.
func (c URLConfig) DAP(d *Deployment) string {
	user, name := Slugify(d.Username), Slugify(d.Name)
	return fmt.Sprintf("http://%s/thredds/dodsC/deployments/%s/%s/%s.nc3.nc", c.Thredds, user, name, name)
}

// SOS returns the NcSOS GetCapabilities URL of the deployment.
func (c URLConfig) SOS(d *Deployment) string {
	user, name := Slugify(d.Username), Slugify(d.Name)
	return fmt.Sprintf("http://%s/thredds/sos/deployments/%s/%s/%s.nc3.nc?service=SOS&request=GetCapabilities&AcceptVersions=1.0.0",
		c.Thredds, user, name, name)
}

// ISO returns the ERDDAP ISO 19115 metadata URL of the deployment.
func (c URLConfig) ISO(d *Deployment) string {
	return fmt.Sprintf("http://%s/erddap/tabledap/%s.iso19115", c.PublicErddap, Slugify(d.Name))
}

// THREDDS returns the THREDDS catalog page of the deployment.
func (c URLConfig) THREDDS(d *Deployment) string {
	user, name := Slugify(d.Username), Slugify(d.Name)
	return fmt.Sprintf("http://%s/thredds/catalog/deployments/%s/%s/catalog.html?dataset=deployments/%s/%s/%s.nc3.nc",
		c.Thredds, user, name, user, name, name)
}

// ERDDAP returns the ERDDAP tabledap page of the deployment.
func (c URLConfig) ERDDAP(d *Deployment) string {
	return fmt.Sprintf("http://%s/erddap/tabledap/%s.html", c.PublicErddap, Slugify(d.Name))
}

// Slugify folds s to ASCII, drops characters other than letters, digits,
// underscores, hyphens and whitespace, lowercases the result and collapses
// runs of whitespace and hyphens into a single hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	kept := strings.Map(func(r rune) rune {
		switch {
		case r > unicode.MaxASCII:
			return -1
		case r == '-' || r == '_' || unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		}
		return -1
	}, folded)
	kept = strings.ToLower(strings.TrimSpace(kept))

	var b strings.Builder
	inSep := false
	for _, r := range kept {
		if r == '-' || unicode.IsSpace(r) {
			if !inSep {
				b.WriteByte('-')
			}
			inSep = true
			continue
		}
		inSep = false
		b.WriteRune(r)
	}
	return b.String()
}
