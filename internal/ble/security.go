package ble

// AuthReq is the SMP authentication requirements field.
type AuthReq uint8

const (
	AuthBond AuthReq = 0x01
	AuthMITM AuthReq = 0x04
	AuthSC   AuthReq = 0x08

	AuthSCMITMBond = AuthSC | AuthMITM | AuthBond
)

// IOCap is the SMP IO capability.
type IOCap uint8

const (
	IOCapDisplayOnly     IOCap = 0x00
	IOCapDisplayYesNo    IOCap = 0x01
	IOCapKeyboardOnly    IOCap = 0x02
	IOCapNoInputNoOutput IOCap = 0x03
	IOCapKeyboardDisplay IOCap = 0x04
)

// String returns the capability name as used by BlueZ agents.
func (c IOCap) String() string {
	switch c {
	case IOCapDisplayOnly:
		return "DisplayOnly"
	case IOCapDisplayYesNo:
		return "DisplayYesNo"
	case IOCapKeyboardOnly:
		return "KeyboardOnly"
	case IOCapNoInputNoOutput:
		return "NoInputNoOutput"
	case IOCapKeyboardDisplay:
		return "KeyboardDisplay"
	default:
		return "Unknown"
	}
}

// KeyMask selects distributed keys.
type KeyMask uint8

const (
	KeyEnc  KeyMask = 0x01 // LTK
	KeyID   KeyMask = 0x02 // IRK
	KeyCSRK KeyMask = 0x04
	KeyLink KeyMask = 0x08
)

// SecAction is the link security requested by SetEncryption.
type SecAction uint8

const (
	SecEncrypt       SecAction = 0x01
	SecEncryptNoMITM SecAction = 0x02
	SecEncryptMITM   SecAction = 0x03
)

// SecurityParams configures the security manager. They are set once at
// startup and never changed.
type SecurityParams struct {
	AuthReq    AuthReq
	IOCap      IOCap
	MaxKeySize uint8
	InitKeys   KeyMask
	RespKeys   KeyMask
	// OnlyAcceptSpecifiedAuth rejects peers that cannot meet AuthReq.
	OnlyAcceptSpecifiedAuth bool
	OOB                     bool
}

// LockSecurityParams returns the lock's security parameters: LE secure
// connections with MITM protection and bonding, a display with yes/no
// input (numeric comparison), 16-byte keys, LTK and IRK distributed both
// ways, no out-of-band data.
func LockSecurityParams() SecurityParams {
	return SecurityParams{
		AuthReq:                 AuthSCMITMBond,
		IOCap:                   IOCapDisplayYesNo,
		MaxKeySize:              16,
		InitKeys:                KeyEnc | KeyID,
		RespKeys:                KeyEnc | KeyID,
		OnlyAcceptSpecifiedAuth: true,
		OOB:                     false,
	}
}
