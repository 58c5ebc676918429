package email

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Common IMAP servers for popular email providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"msn.com":        "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yahoo.co.uk":    "imap.mail.yahoo.com:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"yandex.com":     "imap.yandex.com:993",
	"mail.ru":        "imap.mail.ru:993",
	"bk.ru":          "imap.mail.ru:993",
	"list.ru":        "imap.mail.ru:993",
	"inbox.ru":       "imap.mail.ru:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"mac.com":        "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"protonmail.com": "127.0.0.1:1143", // ProtonMail Bridge
	"proton.me":      "127.0.0.1:1143",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
	"t-online.de":    "secureimap.t-online.de:993",
	"rambler.ru":     "imap.rambler.ru:993",
}

// ResolveIMAPServer determines the IMAP host and port for an email address.
// Known providers first, then imap./mail. probes, then MX records.
func ResolveIMAPServer(ctx context.Context, email string) (string, int, error) {
	domain := GetDomainFromEmail(email)
	if domain == "" {
		return "", 0, fmt.Errorf("invalid email format")
	}

	// Check known providers first
	if server, ok := knownIMAPServers[domain]; ok {
		return splitServer(server)
	}

	// Try common IMAP server patterns
	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if checkIMAPServer(ctx, host, imapsPort) {
			return host, imapsPort, nil
		}
	}

	// Try to resolve via MX records
	if host, err := resolveViaMX(ctx, domain); err == nil {
		return host, imapsPort, nil
	}

	// Default fallback - try imap.domain:993
	return "imap." + domain, imapsPort, nil
}

const imapsPort = 993

func splitServer(server string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// checkIMAPServer checks if an IMAP server is reachable
func checkIMAPServer(ctx context.Context, host string, port int) bool {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// resolveViaMX tries to determine IMAP host from MX records,
// e.g. mx.example.com -> imap.example.com
func resolveViaMX(ctx context.Context, domain string) (string, error) {
	mxRecords, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records found")
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) == 2 {
		baseDomain := parts[1]
		for _, host := range []string{"imap." + baseDomain, "mail." + baseDomain} {
			if checkIMAPServer(ctx, host, imapsPort) {
				return host, nil
			}
		}
	}

	return "", fmt.Errorf("could not determine IMAP server")
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
