package gateway

// InterfaceVersion identifies the gateway ABI below. Bump it together with
// GatewayABI whenever the deployed contract changes.
const InterfaceVersion = "PaymentGateway/v1"

var (
	// GatewayABI is the subset of the payment gateway the relay calls.
	GatewayABI = []byte(`[
		{
			"inputs": [
				{"name": "requestId", "type": "bytes32"},
				{"name": "merchant", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "executePayment",
			"outputs": [{"name": "paymentId", "type": "uint256"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "requestId", "type": "bytes32"},
				{"indexed": true, "name": "paymentId", "type": "uint256"},
				{"indexed": true, "name": "payer", "type": "address"},
				{"indexed": false, "name": "merchant", "type": "address"},
				{"indexed": false, "name": "amount", "type": "uint256"},
				{"indexed": false, "name": "fee", "type": "uint256"}
			],
			"name": "PaymentExecuted",
			"type": "event"
		}
	]`)

	// TokenABI covers the permit token's nonce and domain queries.
	TokenABI = []byte(`[
		{
			"inputs": [{"name": "owner", "type": "address"}],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "eip712Domain",
			"outputs": [
				{"name": "fields", "type": "bytes1"},
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
				{"name": "salt", "type": "bytes32"},
				{"name": "extensions", "type": "uint256[]"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "name",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "version",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)

// executeInputs is the exact argument list executePayment must declare.
var executeInputs = []string{"bytes32", "address", "uint256", "uint256", "uint8", "bytes32", "bytes32"}
