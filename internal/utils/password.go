package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// dummyHash is a digest of a random throwaway password. Login attempts for
// unknown usernames verify against it so that the response time does not
// reveal whether the account exists.
const dummyHash = "$2a$12$K7uI9zYailZRmxaPp.WQHeXmXCl1LJv0p8S0AcOCyUp7HzZd4V9gu"

// VerifyDummy burns a bcrypt comparison against a fixed digest and always
// reports failure.
func VerifyDummy(plain string) bool {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(plain))
	return false
}
