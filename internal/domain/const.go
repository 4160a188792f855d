package domain

const (
	// ZeroAddress is the Ethereum zero address, used as a sentinel owner.
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// DevProofSealPrefix marks a seal produced by the dev-mode prover stub
	// rather than the real zkVM proving pipeline.
	DevProofSealPrefix = "DEV-SEAL:"
)
