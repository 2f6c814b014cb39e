package services

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"

	"airnode/models"
)

// Classifier maps a fault to its ErrorKind
type Classifier func(err error) models.ErrorKind

type kindRule struct {
	kind     models.ErrorKind
	keywords []string
}

// Ordered; the first rule with a matching keyword wins.
var kindRules = []kindRule{
	{models.KindCo2Sensor, []string{"co2", "mhz19"}},
	{models.KindI2c, []string{"i2c"}},
	{models.KindUart, []string{"uart"}},
	{models.KindSensor, []string{"sensor", "bme"}},
	{models.KindWifi, []string{"wifi", "socket", "network", "connection"}},
	{models.KindMemory, []string{"memory", "allocation"}},
	{models.KindTimeout, []string{"timeout"}},
	{models.KindFile, []string{"file", "open", "read", "write"}},
}

// Classify returns the kind of err. A *models.Fault anywhere in the chain wins;
// deadline and path errors come next; untagged errors fall back to keyword matching
// on the message text.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.KindUnknown
	}

	var fault *models.Fault
	if errors.As(err, &fault) && fault.Kind != "" {
		return fault.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return models.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.KindTimeout
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return models.KindFile
	}

	return ClassifyText(err.Error())
}

// ClassifyText applies the keyword rules to a free-text fault description
func ClassifyText(text string) models.ErrorKind {
	text = strings.ToLower(text)
	for _, rule := range kindRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.kind
			}
		}
	}
	return models.KindUnknown
}
