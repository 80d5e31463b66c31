package wv

import (
	"crypto/rsa"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// DeviceType is the class of a device, which decides the shape of its license request ids.
type DeviceType uint8

const (
	DeviceTypeChrome  DeviceType = 1
	DeviceTypeAndroid DeviceType = 2
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeChrome:
		return "CHROME"
	case DeviceTypeAndroid:
		return "ANDROID"
	default:
		return fmt.Sprintf("DeviceType(%d)", uint8(t))
	}
}

// Device is a provisioned client: its client identification and the private
// key bound to the certificate inside it. A Device is immutable and can be
// shared by several CDMs.
type Device struct {
	typ           DeviceType
	securityLevel uint8
	clientID      *wvpb.ClientIdentification
	privateKey    *rsa.PrivateKey
}

// DeviceSource fills a Device from some encoding.
type DeviceSource func(d *Device) error

// NewDevice creates a device from a source such as FromWVD or FromRaw.
func NewDevice(src DeviceSource) (*Device, error) {
	d := &Device{}
	if err := src(d); err != nil {
		return nil, err
	}
	return d, nil
}

// FromRaw loads a device from a serialized client identification and a DER
// private key, as dumped from a device.
func FromRaw(typ DeviceType, securityLevel uint8, clientID, privateKey []byte) DeviceSource {
	return func(d *Device) error {
		c, err := unmarshalClientID(clientID)
		if err != nil {
			return err
		}

		key, err := ParsePrivateKey(privateKey)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}

		d.typ = typ
		d.securityLevel = securityLevel
		d.clientID = c
		d.privateKey = key
		return nil
	}
}

func unmarshalClientID(data []byte) (*wvpb.ClientIdentification, error) {
	c := &wvpb.ClientIdentification{}
	if err := proto.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: unmarshal client id: %v", ErrFormat, err)
	}
	if len(c.GetToken()) == 0 {
		return nil, fmt.Errorf("%w: missing token in client id", ErrKeyMaterial)
	}
	return c, nil
}

// Type returns the device type.
func (d *Device) Type() DeviceType {
	return d.typ
}

// SecurityLevel returns the security level (1 to 3) the device was exported with.
func (d *Device) SecurityLevel() uint8 {
	return d.securityLevel
}

// ClientID returns the plaintext client identification.
func (d *Device) ClientID() *wvpb.ClientIdentification {
	return d.clientID
}

func (d *Device) PrivateKey() *rsa.PrivateKey {
	return d.privateKey
}

// DrmCertificate returns the device certificate carried in the client id token.
func (d *Device) DrmCertificate() (*wvpb.DrmCertificate, error) {
	signed, err := decodeSignedDrmCertificate(d.clientID.GetToken())
	if err != nil {
		return nil, fmt.Errorf("%w: client id token: %w", ErrKeyMaterial, err)
	}

	cert := &wvpb.DrmCertificate{}
	if err = proto.Unmarshal(signed.GetDrmCertificate(), cert); err != nil {
		return nil, fmt.Errorf("%w: unmarshal drm certificate: %v", ErrKeyMaterial, err)
	}
	return cert, nil
}

// PublicKey returns the public key of the device certificate.
func (d *Device) PublicKey() (*rsa.PublicKey, error) {
	cert, err := d.DrmCertificate()
	if err != nil {
		return nil, err
	}
	if len(cert.GetPublicKey()) == 0 {
		return nil, fmt.Errorf("%w: missing public key in drm certificate", ErrKeyMaterial)
	}
	return ParsePublicKey(cert.GetPublicKey())
}

// SystemID returns the system id of the device certificate, or 0 if it cannot be read.
func (d *Device) SystemID() uint32 {
	cert, err := d.DrmCertificate()
	if err != nil {
		return 0
	}
	return cert.GetSystemId()
}
