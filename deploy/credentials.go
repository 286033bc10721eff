package deploy

import (
	"crypto/rand"
	"math/big"

	"github.com/iwb/akash-deploy/state"
)

// placeholderURL marks credentials generated before the service URL is
// known; it gets replaced once the deployment reports one.
const placeholderURL = "http://service-url-placeholder"

const (
	lowerDigits = "abcdefghijklmnopqrstuvwxyz0123456789"
	alnum       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

func generateCredentials(serviceURL string) *state.Credentials {
	if serviceURL == "" {
		serviceURL = placeholderURL
	}
	return &state.Credentials{
		Username: "comfyui_" + randomString(lowerDigits, 6),
		Password: randomString(alnum, 16),
		APIURL:   serviceURL,
	}
}

func randomString(alphabet string, n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is
			// broken; credentials are unusable at that point anyway.
			panic(err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}
