package wv

import (
	"crypto/rsa"
	"math/big"
)

// WidevineSystemID is the system id of Widevine.
var WidevineSystemID = []byte{0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed}

// PlayReadySystemID is the system id of PlayReady.
var PlayReadySystemID = []byte{0x9a, 0x04, 0xf0, 0x79, 0x98, 0x40, 0x42, 0x86, 0xab, 0x92, 0xe6, 0x5b, 0xe0, 0x88, 0x5f, 0x95}

// ServiceCertificateChallenge is a SignedMessage of type SERVICE_CERTIFICATE_REQUEST.
var ServiceCertificateChallenge = []byte{0x08, 0x04}

// CommonPrivacyCert is the base64 service certificate of license.widevine.com.
var CommonPrivacyCert = "CAUSxwUKwQIIAxIQFwW5F8wSBIaLBjM6L3cqjBiCtIKSBSKOAjCCAQoCggEBAJntWzsyfateJO/DtiqVtZhSCtW8yzdQPgZFuBTYdrjfQFEE" +
	"Qa2M462xG7iMTnJaXkqeB5UpHVhYQCOn4a8OOKkSeTkwCGELbxWMh4x+Ib/7/up34QGeHleB6KRfRiY9FOYOgFioYHrc4E+shFexN6jWfM3r" +
	"M3BdmDoh+07svUoQykdJDKR+ql1DghjduvHK3jOS8T1v+2RC/THhv0CwxgTRxLpMlSCkv5fuvWCSmvzu9Vu69WTi0Ods18Vcc6CCuZYSC4NZ" +
	"7c4kcHCCaA1vZ8bYLErF8xNEkKdO7DevSy8BDFnoKEPiWC8La59dsPxebt9k+9MItHEbzxJQAZyfWgkCAwEAAToUbGljZW5zZS53aWRldmlu" +
	"ZS5jb20SgAOuNHMUtag1KX8nE4j7e7jLUnfSSYI83dHaMLkzOVEes8y96gS5RLknwSE0bv296snUE5F+bsF2oQQ4RgpQO8GVK5uk5M4PxL/C" +
	"CpgIqq9L/NGcHc/N9XTMrCjRtBBBbPneiAQwHL2zNMr80NQJeEI6ZC5UYT3wr8+WykqSSdhV5Cs6cD7xdn9qm9Nta/gr52u/DLpP3lnSq8x2" +
	"/rZCR7hcQx+8pSJmthn8NpeVQ/ypy727+voOGlXnVaPHvOZV+WRvWCq5z3CqCLl5+Gf2Ogsrf9s2LFvE7NVV2FvKqcWTw4PIV9Sdqrd+QLeF" +
	"Hd/SSZiAjjWyWOddeOrAyhb3BHMEwg2T7eTo/xxvF+YkPj89qPwXCYcOxF+6gjomPwzvofcJOxkJkoMmMzcFBDopvab5tDQsyN9UPLGhGC98" +
	"X/8z8QSQ+spbJTYLdgFenFoGq47gLwDS6NWYYQSqzE3Udf2W7pzk4ybyG4PHBYV3s4cyzdq8amvtE/sNSdOKReuHpfQ="

// StagingPrivacyCert is the base64 service certificate of staging.google.com.
var StagingPrivacyCert = "CAUSxQUKvwIIAxIQKHA0VMAI9jYYredEPbbEyBiL5/mQBSKOAjCCAQoCggEBALUhErjQXQI/zF2V4sJRwcZJtBd82NK+7zVbsGdD3mYePSq8" +
	"MYK3mUbVX9wI3+lUB4FemmJ0syKix/XgZ7tfCsB6idRa6pSyUW8HW2bvgR0NJuG5priU8rmFeWKqFxxPZmMNPkxgJxiJf14e+baq9a1Nuip+" +
	"FBdt8TSh0xhbWiGKwFpMQfCB7/+Ao6BAxQsJu8dA7tzY8U1nWpGYD5LKfdxkagatrVEB90oOSYzAHwBTK6wheFC9kF6QkjZWt9/v70JIZ2fz" +
	"PvYoPU9CVKtyWJOQvuVYCPHWaAgNRdiTwryi901goMDQoJk87wFgRwMzTDY4E5SGvJ2vJP1noH+a2UMCAwEAAToSc3RhZ2luZy5nb29nbGUu" +
	"Y29tEoADmD4wNSZ19AunFfwkm9rl1KxySaJmZSHkNlVzlSlyH/iA4KrvxeJ7yYDa6tq/P8OG0ISgLIJTeEjMdT/0l7ARp9qXeIoA4qprhM19" +
	"ccB6SOv2FgLMpaPzIDCnKVww2pFbkdwYubyVk7jei7UPDe3BKTi46eA5zd4Y+oLoG7AyYw/pVdhaVmzhVDAL9tTBvRJpZjVrKH1lexjOY9Dv" +
	"1F/FJp6X6rEctWPlVkOyb/SfEJwhAa/K81uDLyiPDZ1Flg4lnoX7XSTb0s+Cdkxd2b9yfvvpyGH4aTIfat4YkF9Nkvmm2mU224R1hx0WjocL" +
	"sjA89wxul4TJPS3oRa2CYr5+DU4uSgdZzvgtEJ0lksckKfjAF0K64rPeytvDPD5fS69eFuy3Tq26/LfGcF96njtvOUA4P5xRFtICogySKe6W" +
	"nCUZcYMDtQ0BMMM1LgawFNg4VA+KDCJ8ABHg9bOOTimO0sswHrRWSWX1XF15dXolCk65yEqz5lOfa2/fVomeopkU"

// rootModulus is the modulus of the key that signs every service certificate.
const rootModulus = "" +
	"b4fe39c3659003db3c119709e868cdf2c35e9bf2e74d23b110db8765dfdcfb9f35a05703534cf66d357da678dbb336d2" +
	"3f9c40a99526727fb8be66dfc52198781516685d2f460e43cb8a8439abfbb0358022be34238bab535b72ec4bb5486953" +
	"3e475ffd09fda776138f0f92d64cdfae76a9bad92210a99d7145d6d7e11925859c539a97eb84d7cca8888220702620fd" +
	"7e405027e225936fbc3e72a0fac1bd29b44d825cc1b4cb9c727eb0e98a173e1963fcfd82482bb7b233b97dec4bba891f" +
	"27b89b884884aa18920e65f5c86c11ff6b36e47434ca8c33b1f9b88eb4e612e0029879525e4533ff11dcebc353ba7c60" +
	"1a113d00fbd2b7aa30fa4f5e48775b17dc75ef6fd2196ddcbe7fb0788fdc82604cbfe429065e698c3913ad1425ed19b2" +
	"f29f01820d564488c835ec1f11b324e0590d37e4473cea4b7f97311c817c948a4c7d681584ffa508fd18e7e72be44727" +
	"1211b823ec58933cac12d2886d413dc5fe1cdcb9f8d4513e07e5036fa712e812f7b5cea696553f78b4648250d2335f91"

// RootPublicKey returns the public key that service certificates are verified against.
func RootPublicKey() *rsa.PublicKey {
	n, ok := new(big.Int).SetString(rootModulus, 16)
	if !ok {
		panic("invalid root modulus")
	}
	return &rsa.PublicKey{N: n, E: 65537}
}

var (
	encryptionLabel     = []byte("ENCRYPTION\x00")
	authenticationLabel = []byte("AUTHENTICATION\x00")
)

const (
	encryptionKeySize     = 128
	authenticationKeySize = 512
	sessionKeyLength      = 16
)
