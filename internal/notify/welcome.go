package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/nftseason/notifyd/internal/models"
)

// welcomeNamespace pins welcome message ids to this feature. Changing it
// would re-welcome every subscriber.
const welcomeNamespace = "miniapp-welcome"

// WelcomeMessageID derives a deterministic notification id for the welcome
// message of a (fid, token) pair. Retried enable deliveries produce the same
// id, so the provider can deduplicate on its side too.
func WelcomeMessageID(fid int64, token string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", welcomeNamespace, fid, token)))
	return hex.EncodeToString(sum[:])[:32]
}

// ShouldSendWelcome reports whether a welcome notification is due for this
// token. A token that was already welcomed never gets a second one; a fresh
// token for the same subscriber does.
func ShouldSendWelcome(sub *models.Subscriber, token string) bool {
	if sub == nil || sub.WelcomeSentForToken == nil {
		return true
	}
	return *sub.WelcomeSentForToken != token
}
