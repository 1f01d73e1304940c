/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/ssgreg/logf"
)

// MaskingLogger masks credentials in messages and in string, bytes, error and string slice fields.
// Provider errors often echo the request URL or headers back, so nothing reaches the inner logger unmasked.
type MaskingLogger struct {
	log    FieldLogger
	masker StringMasker
}

// NewMaskingLogger wraps l so that everything it logs is masked by m.
func NewMaskingLogger(l FieldLogger, m StringMasker) FieldLogger {
	return MaskingLogger{l, m}
}

func (l MaskingLogger) With(fs ...Field) FieldLogger {
	return MaskingLogger{l.log.With(l.maskFields(fs)...), l.masker}
}

func (l MaskingLogger) Debug(msg string, fs ...Field) { l.log.Debug(l.masker.Mask(msg), l.maskFields(fs)...) }

func (l MaskingLogger) Info(msg string, fs ...Field) { l.log.Info(l.masker.Mask(msg), l.maskFields(fs)...) }

func (l MaskingLogger) Warn(msg string, fs ...Field) { l.log.Warn(l.masker.Mask(msg), l.maskFields(fs)...) }

func (l MaskingLogger) Error(msg string, fs ...Field) { l.log.Error(l.masker.Mask(msg), l.maskFields(fs)...) }

func (l MaskingLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }

func (l MaskingLogger) Infof(format string, args ...interface{}) { l.Info(fmt.Sprintf(format, args...)) }

func (l MaskingLogger) Warnf(format string, args ...interface{}) { l.Warn(fmt.Sprintf(format, args...)) }

func (l MaskingLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }

// AtLevel passes fn a LogFunc masking its message and fields.
func (l MaskingLogger) AtLevel(level Level, fn func(logFunc LogFunc)) {
	l.log.AtLevel(level, func(logFunc LogFunc) {
		fn(func(msg string, fs ...Field) {
			logFunc(l.masker.Mask(msg), l.maskFields(fs)...)
		})
	})
}

func (l MaskingLogger) WithLevel(level Level) FieldLogger {
	return MaskingLogger{l.log.WithLevel(level), l.masker}
}

var stringSliceType = reflect.TypeOf([]string{})

// maskFields copies fields only if at least one of them has to be masked.
func (l MaskingLogger) maskFields(fields []Field) []Field {
	var res []Field
	for i := range fields {
		masked, changed := l.maskField(fields[i])
		if !changed {
			continue
		}
		if res == nil {
			res = append([]Field(nil), fields...)
		}
		res[i] = masked
	}
	if res == nil {
		return fields
	}
	return res
}

func (l MaskingLogger) maskField(field Field) (Field, bool) {
	switch field.Type {
	case logf.FieldTypeBytesToString:
		s := string(field.Bytes)
		if m := l.masker.Mask(s); m != s {
			return String(field.Key, m), true
		}
	case logf.FieldTypeBytes, logf.FieldTypeRawBytes:
		if field.Bytes == nil {
			break
		}
		s := string(field.Bytes)
		if m := l.masker.Mask(s); m != s {
			return logf.ConstBytes(field.Key, []byte(m)), true
		}
	case logf.FieldTypeError:
		if err, ok := field.Any.(error); ok && err != nil {
			s := err.Error()
			if m := l.masker.Mask(s); m != s {
				return NamedError(field.Key, newMaskedError(err, l.masker, m)), true
			}
		}
	case logf.FieldTypeArray:
		if field.Any == nil {
			break
		}
		v := reflect.ValueOf(field.Any)
		if !v.CanConvert(stringSliceType) {
			break
		}
		ss := v.Convert(stringSliceType).Interface().([]string)
		masked := make([]string, len(ss))
		changed := false
		for j := range ss {
			masked[j] = l.masker.Mask(ss[j])
			changed = changed || masked[j] != ss[j]
		}
		if changed {
			return Strings(field.Key, masked), true
		}
	}
	return field, false
}

func newMaskedError(err error, m StringMasker, masked string) error {
	if _, ok := err.(fmt.Formatter); ok {
		return maskedError{s: masked, verboseS: m.Mask(fmt.Sprintf("%+v", err))}
	}
	return errors.New(masked)
}

// maskedError keeps a masked %+v form for the verbose error field.
type maskedError struct {
	s        string
	verboseS string
}

func (e maskedError) Error() string {
	return e.s
}

func (e maskedError) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, e.verboseS)
}
