package jira

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/netresearch/timetracker-sub002/internal/errors"
)

// Messages for private key problems
const (
	MsgPrivateKeyNotConfigured = "OAuth private key not configured"
	MsgInvalidCertificate      = "Invalid certificate"
)

// keyFileDir is where PEM content is materialized; empty means os.TempDir
var keyFileDir = ""

// loadPrivateKey reads the consumer private key. material is either a path
// to a PEM file or the PEM content itself. Content is written to a temporary
// file that is removed before returning.
func loadPrivateKey(material string) (*rsa.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, errors.NewJiraAPIError(MsgPrivateKeyNotConfigured, nil)
	}

	path := material
	if !isKeyFile(material) {
		if !strings.Contains(material, "-----BEGIN") {
			return nil, errors.NewJiraAPIError(MsgInvalidCertificate, nil)
		}

		tmp, err := writeTempKey(material)
		if err != nil {
			return nil, err
		}
		defer func() { _ = os.Remove(tmp) }()
		path = tmp
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewJiraAPIError(MsgInvalidCertificate, err)
	}

	key, err := parseRSAPrivateKey(data)
	if err != nil {
		return nil, errors.NewJiraAPIError(MsgInvalidCertificate, err)
	}
	return key, nil
}

func isKeyFile(material string) bool {
	if strings.ContainsAny(material, "\n\r") {
		return false
	}
	info, err := os.Stat(material)
	return err == nil && info.Mode().IsRegular()
}

func writeTempKey(content string) (string, error) {
	f, err := os.CreateTemp(keyFileDir, "jira-oauth-*.pem")
	if err != nil {
		return "", fmt.Errorf("failed to create key file: %w", err)
	}

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close key file: %w", err)
	}
	return f.Name(), nil
}

func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an RSA key")
	}
	return key, nil
}
