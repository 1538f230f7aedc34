package models

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Business{},
		&AccountNumber{},
		&BankTemplate{},
		&PaymentRequest{},
		&InboundEmail{},
		&IngestionBatch{},
		&ExtractedTransaction{},
		&TransactionFingerprint{},
		&MatchAttempt{},
	}
}
