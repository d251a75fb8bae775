package cometbft

import "time"

// Wire shapes for the CometBFT RPC surface. Heights and integers arrive
// as JSON strings.

type statusResponse struct {
	Result struct {
		NodeInfo struct {
			Network string `json:"network"`
			Other   struct {
				TxIndex string `json:"tx_index"`
			} `json:"other"`
		} `json:"node_info"`
		SyncInfo struct {
			LatestBlockHeight string    `json:"latest_block_height"`
			LatestBlockTime   time.Time `json:"latest_block_time"`
			CatchingUp        bool      `json:"catching_up"`
		} `json:"sync_info"`
		ValidatorInfo struct {
			Address     string `json:"address"`
			VotingPower string `json:"voting_power"`
		} `json:"validator_info"`
	} `json:"result"`
}

type blockResponse struct {
	Result struct {
		Block struct {
			Header struct {
				ChainID         string    `json:"chain_id"`
				Height          string    `json:"height"`
				Time            time.Time `json:"time"`
				ProposerAddress string    `json:"proposer_address"`
			} `json:"header"`
			Data struct {
				Txs []string `json:"txs"`
			} `json:"data"`
			LastCommit struct {
				Height     string `json:"height"`
				Signatures []struct {
					BlockIDFlag      int    `json:"block_id_flag"`
					ValidatorAddress string `json:"validator_address"`
					Timestamp        string `json:"timestamp"`
				} `json:"signatures"`
			} `json:"last_commit"`
		} `json:"block"`
	} `json:"result"`
}

// blockIDFlagCommit marks a signature that actually committed the block.
const blockIDFlagCommit = 2

type validatorsResponse struct {
	Result struct {
		BlockHeight string `json:"block_height"`
		Validators  []struct {
			Address     string `json:"address"`
			VotingPower string `json:"voting_power"`
		} `json:"validators"`
		Count string `json:"count"`
		Total string `json:"total"`
	} `json:"result"`
}

type txSearchResponse struct {
	Error *struct {
		Data string `json:"data"`
	} `json:"error"`
	Result struct {
		Txs []struct {
			TxResult struct {
				GasWanted string `json:"gas_wanted"`
				GasUsed   string `json:"gas_used"`
			} `json:"tx_result"`
		} `json:"txs"`
		TotalCount string `json:"total_count"`
	} `json:"result"`
}
