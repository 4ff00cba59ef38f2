package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const claimRewardMethod = "claimReward"

var rewardABI abi.ABI

const rewardABIJSON = `[
	{"inputs":[],"name":"claimReward","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

func init() {
	parsed, err := abi.JSON(strings.NewReader(rewardABIJSON))
	if err != nil {
		panic(err)
	}
	rewardABI = parsed
}

// ClaimRewardCalldata returns the encoded zero-argument claimReward() call.
func ClaimRewardCalldata() []byte {
	data, err := rewardABI.Pack(claimRewardMethod)
	if err != nil {
		panic(err)
	}
	return data
}
