// Package config handles application configuration.
package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FlexBool is a boolean type that can be unmarshalled from a boolean, a string, or a number.
type FlexBool bool

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexBool.
func (fb *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		*fb = FlexBool(b)
	case "!!str":
		b, err := strconv.ParseBool(value.Value)
		if err != nil {
			return fmt.Errorf("cannot unmarshal string %q into FlexBool", value.Value)
		}
		*fb = FlexBool(b)
	case "!!int":
		i, err := strconv.Atoi(value.Value)
		if err != nil {
			return err
		}
		*fb = FlexBool(i != 0)
	case "!!float":
		f, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return err
		}
		*fb = FlexBool(f != 0)
	default:
		return fmt.Errorf("cannot unmarshal %s into FlexBool", value.Tag)
	}
	return nil
}

// Duration is a time.Duration that can be unmarshalled from "90s"/"5m" strings
// or from a plain number of seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!str":
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("cannot unmarshal %q into Duration: %w", value.Value, err)
		}
		*d = Duration(parsed)
	case "!!int":
		secs, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
	case "!!float":
		secs, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
	default:
		return fmt.Errorf("cannot unmarshal %s into Duration", value.Tag)
	}
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ROIBasis selects whether an ROI threshold is compared against the
// leverage-scaled ROI or the raw price move.
type ROIBasis string

const (
	// BasisLeveraged multiplies the price move by the configured leverage.
	BasisLeveraged ROIBasis = "leveraged"
	// BasisPrice uses the raw price move.
	BasisPrice ROIBasis = "price"
)

// UnmarshalYAML implements the yaml.Unmarshaler interface for ROIBasis.
func (b *ROIBasis) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch ROIBasis(s) {
	case BasisLeveraged, BasisPrice:
		*b = ROIBasis(s)
	case "":
		*b = BasisLeveraged
	default:
		return fmt.Errorf("unknown roi basis %q (want %q or %q)", s, BasisLeveraged, BasisPrice)
	}
	return nil
}
