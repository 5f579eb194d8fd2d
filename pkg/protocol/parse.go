package protocol

import (
	"strconv"
	"strings"

	"lx200/pkg/coord"
)

// ParseAck decodes a boolean acknowledgement: "1" accepted, "0" rejected.
func ParseAck(command string, resp Response) (bool, error) {
	switch strings.TrimSuffix(resp.Raw, "#") {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, &MalformedError{Command: command, Raw: resp.Raw, Reason: "expected 0 or 1"}
}

// ExpectAck is ParseAck that turns a rejection into a VendorRejectedError
// with code 0.
func ExpectAck(command string, resp Response) error {
	ok, err := ParseAck(command, resp)
	if err != nil {
		return err
	}
	if !ok {
		return &VendorRejectedError{Code: 0, Message: command + " rejected"}
	}
	return nil
}

// ParseAngle decodes a sexagesimal reply, after replacing any dialect
// sentinel characters with the degree separator.
func ParseAngle(command string, resp Response, sentinels string) (float64, error) {
	raw := resp.Text
	if sentinels != "" {
		raw = strings.Map(func(r rune) rune {
			if strings.ContainsRune(sentinels, r) {
				return '*'
			}
			return r
		}, raw)
	}
	v, err := coord.ParseSexagesimal(raw)
	if err != nil {
		return 0, &MalformedError{Command: command, Raw: resp.Raw, Reason: err.Error()}
	}
	return v, nil
}

// ParseInt decodes an integer reply.
func ParseInt(command string, resp Response) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(resp.Text))
	if err != nil {
		return 0, &MalformedError{Command: command, Raw: resp.Raw, Reason: "expected integer"}
	}
	return v, nil
}

// ParseFloat decodes a decimal reply.
func ParseFloat(command string, resp Response) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(resp.Text), 64)
	if err != nil {
		return 0, &MalformedError{Command: command, Raw: resp.Raw, Reason: "expected number"}
	}
	return v, nil
}

// NonEmpty fails with MalformedError when the reply carries no payload.
func NonEmpty(command string, resp Response) error {
	if strings.TrimSpace(resp.Text) == "" {
		return &MalformedError{Command: command, Raw: resp.Raw, Reason: "empty reply"}
	}
	return nil
}
