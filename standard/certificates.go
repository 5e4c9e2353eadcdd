package standard

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// ExpiryWarningDays is how close to NotAfter a certificate is flagged.
const ExpiryWarningDays = 30

// CertificateInfo holds parsed certificate metadata.
type CertificateInfo struct {
	Subject         string
	Issuer          string
	ValidFrom       time.Time
	ValidUntil      time.Time
	DaysUntilExpiry int
	IsCA            bool
	IsExpired       bool
	ExpiryWarning   bool // true if < ExpiryWarningDays
}

// InspectCABundle parses every certificate in the PEM bundle at path, the
// same file transport.BuildHTTPClient adds to the trust pool.
func InspectCABundle(path string) ([]CertificateInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	return inspectPEM(data, time.Now())
}

func inspectPEM(data []byte, now time.Time) ([]CertificateInfo, error) {
	var infos []CertificateInfo
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		infos = append(infos, describe(cert, now))
	}
	if len(infos) == 0 {
		return nil, errors.New("no PEM certificates found")
	}
	return infos, nil
}

func describe(cert *x509.Certificate, now time.Time) CertificateInfo {
	daysUntilExpiry := int(cert.NotAfter.Sub(now).Hours() / 24)
	isExpired := now.After(cert.NotAfter)

	return CertificateInfo{
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		ValidFrom:       cert.NotBefore,
		ValidUntil:      cert.NotAfter,
		DaysUntilExpiry: daysUntilExpiry,
		IsCA:            cert.IsCA,
		IsExpired:       isExpired,
		ExpiryWarning:   daysUntilExpiry <= ExpiryWarningDays && !isExpired,
	}
}

// ReportCABundle inspects path and logs one Warn entry per expired or
// expiring certificate. It returns the parsed certificates.
func ReportCABundle(path string, logs *RecentLogs) ([]CertificateInfo, error) {
	infos, err := InspectCABundle(path)
	if err != nil {
		logs.Warn("CA bundle inspection failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil, err
	}

	for _, info := range infos {
		switch {
		case info.IsExpired:
			logs.Warn("CA certificate expired", map[string]interface{}{
				"path":        path,
				"subject":     info.Subject,
				"valid_until": info.ValidUntil.Format(time.RFC3339),
			})
		case info.ExpiryWarning:
			logs.Warn("CA certificate expiring soon", map[string]interface{}{
				"path":              path,
				"subject":           info.Subject,
				"days_until_expiry": info.DaysUntilExpiry,
			})
		}
	}
	return infos, nil
}
