package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path"
	"regexp"
	"strings"
	"time"

	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/x509proxy"
)

// client's x509 certificates used to fetch pretrained weights
var _certs []tls.Certificate

// client X509 certificates, either proxy (X509_USER_PROXY or
// /tmp/x509up_u$UID) or user key/cert pair
func tlsCerts() ([]tls.Certificate, error) {
	if len(_certs) != 0 {
		return _certs, nil
	}
	uproxy := os.Getenv("X509_USER_PROXY")
	uckey := os.Getenv("X509_USER_KEY")
	ucert := os.Getenv("X509_USER_CERT")
	if uproxy == "" {
		if u, err := user.Current(); err == nil {
			fname := fmt.Sprintf("/tmp/x509up_u%s", u.Uid)
			if _, err := os.Stat(fname); err == nil {
				uproxy = fname
			}
		}
	}
	if uproxy == "" && uckey == "" {
		return nil, nil
	}
	if uproxy != "" {
		cert, err := x509proxy.LoadX509Proxy(uproxy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse X509 proxy %s: %v", uproxy, err)
		}
		_certs = []tls.Certificate{cert}
		return _certs, nil
	}
	cert, err := tls.LoadX509KeyPair(ucert, uckey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user X509 certificate: %v", err)
	}
	_certs = []tls.Certificate{cert}
	return _certs, nil
}

// httpClient provides HTTP client which presents X509 certificates when
// they are available
func httpClient() *http.Client {
	certs, err := tlsCerts()
	if err != nil {
		logs.WithFields(logs.Fields{"Error": err}).Warn("unable to load X509 certificates, use plain HTTP client")
	}
	if len(certs) == 0 {
		return &http.Client{Timeout: 30 * time.Minute}
	}
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{Certificates: certs},
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Minute}
}

// pattern of a single run name segment, runs may be nested inside results
// directory, e.g. tagging/7_17_17/resnet_transform/0
var runPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// helper function to check run name provided by HTTP clients, it is a
// relative slash separated path which never leaves results directory
func validRun(run string) bool {
	if run == "" || path.Clean(run) != run {
		return false
	}
	for _, seg := range strings.Split(run, "/") {
		if !runPattern.MatchString(seg) || seg == ".." {
			return false
		}
	}
	return true
}
