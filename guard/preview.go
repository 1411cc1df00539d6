package guard

import (
	"net/url"
	"strings"

	"github.com/chillysbabybackribs/clawdia/internal/strutil"
	"golang.org/x/net/idna"
)

const (
	maxCommandPreview = 200
	maxURLPreview     = 160
	maxDetailPreview  = 200
	maxErrorPreview   = 300
)

func (r *Redactor) preview(s string, max int) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	out, _ := r.RedactString(s)
	return strutil.Preview(out, max)
}

func (r *Redactor) CommandPreview(command string) string {
	return r.preview(command, maxCommandPreview)
}

func (r *Redactor) ErrorPreview(msg string) string {
	return r.preview(msg, maxErrorPreview)
}

// URLPreview keeps scheme, host and path. User info is dropped, query and
// fragment values are elided, and punycode hosts are shown in Unicode.
func (r *Redactor) URLPreview(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return r.preview(raw, maxURLPreview)
	}
	host := u.Hostname()
	if uh, err := idna.ToUnicode(host); err == nil && uh != "" {
		host = uh
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?...")
	}
	return r.preview(b.String(), maxURLPreview)
}
