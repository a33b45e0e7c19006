package state

import "encoding/binary"

var (
	providerWordPrefix       = []byte("billing/provider/word/")
	providerFeePrefix        = []byte("billing/provider/fee/")
	subscriberWordPrefix     = []byte("billing/subscriber/word/")
	subscriberListPrefix     = []byte("billing/subscriber/providers/")
	registrationKeyPrefix    = []byte("billing/registration/")
	tokenOwnerPrefix         = []byte("billing/token/owner/")
	accountPrefix            = []byte("billing/account/")
	lastProviderIDKeyBytes   = []byte("billing/last-provider-id")
	lastSubscriberIDKeyBytes = []byte("billing/last-subscriber-id")
	lastRolloverKeyBytes     = []byte("billing/last-rollover")
)

func idKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func hashKey(prefix []byte, hash [32]byte) []byte {
	buf := make([]byte, len(prefix)+32)
	copy(buf, prefix)
	copy(buf[len(prefix):], hash[:])
	return buf
}

func addrKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+20)
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}
