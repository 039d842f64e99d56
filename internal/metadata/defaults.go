package metadata

func field(key, label string, t FieldType, category string) FieldDescriptor {
	return FieldDescriptor{Key: key, Label: label, Type: t, Category: category}
}

// DefaultEntities returns the SmartKollect collections available for
// reporting out of the box.
func DefaultEntities() []EntityDescriptor {
	return []EntityDescriptor{
		{
			Key:         "debtors",
			DisplayName: "Debtors",
			PrimaryKey:  "id",
			Fields: []FieldDescriptor{
				field("id", "Debtor ID", TypeText, "Basic"),
				field("acc_number", "Account Number", TypeText, "Basic"),
				field("acc_holder", "Account Holder", TypeText, "Basic"),
				field("id_number", "ID Number", TypeText, "Basic"),
				field("email", "Email", TypeText, "Contact"),
				field("cellphone", "Cellphone", TypeText, "Contact"),
				field("address", "Address", TypeText, "Contact"),
				field("outstanding_balance", "Outstanding Balance", TypeCurrency, "Financial"),
				field("original_amount", "Original Amount", TypeCurrency, "Financial"),
				field("last_payment_amount", "Last Payment Amount", TypeCurrency, "Financial"),
				field("interest_rate", "Interest Rate", TypePercentage, "Financial"),
				field("account_status", "Account Status", TypeText, "Status"),
				field("risk_level", "Risk Level", TypeText, "Status"),
				field("is_handed_over", "Handed Over", TypeBoolean, "Status"),
				field("last_payment_date", "Last Payment Date", TypeDate, "Dates"),
				field("created_at", "Created At", TypeDateTime, "Dates"),
				field("assigned_agent_id", "Assigned Agent", TypeText, "Assignment"),
			},
		},
		{
			Key:         "payments",
			DisplayName: "Payments",
			PrimaryKey:  "id",
			Fields: []FieldDescriptor{
				field("id", "Payment ID", TypeText, "Basic"),
				field("debtor_id", "Debtor ID", TypeText, "Basic"),
				field("reference", "Reference", TypeText, "Basic"),
				field("amount", "Amount", TypeCurrency, "Financial"),
				field("method", "Payment Method", TypeText, "Financial"),
				field("status", "Status", TypeText, "Status"),
				field("payment_date", "Payment Date", TypeDate, "Dates"),
				field("created_at", "Captured At", TypeDateTime, "Dates"),
				field("agent_id", "Captured By", TypeText, "Assignment"),
			},
		},
		{
			Key:         "promises_to_pay",
			DisplayName: "Promises to Pay",
			PrimaryKey:  "id",
			Fields: []FieldDescriptor{
				field("id", "PTP ID", TypeText, "Basic"),
				field("debtor_id", "Debtor ID", TypeText, "Basic"),
				field("amount", "Promised Amount", TypeCurrency, "Financial"),
				field("status", "Status", TypeText, "Status"),
				field("is_kept", "Kept", TypeBoolean, "Status"),
				field("promise_date", "Promise Date", TypeDate, "Dates"),
				field("created_at", "Created At", TypeDateTime, "Dates"),
				field("agent_id", "Agent", TypeText, "Assignment"),
			},
		},
		{
			Key:         "agents",
			DisplayName: "Agents",
			PrimaryKey:  "id",
			Fields: []FieldDescriptor{
				field("id", "Agent ID", TypeText, "Basic"),
				field("full_name", "Full Name", TypeText, "Basic"),
				field("email", "Email", TypeText, "Contact"),
				field("team", "Team", TypeText, "Assignment"),
				field("target_amount", "Monthly Target", TypeCurrency, "Financial"),
				field("collection_rate", "Collection Rate", TypePercentage, "Financial"),
				field("is_active", "Active", TypeBoolean, "Status"),
				field("created_at", "Created At", TypeDateTime, "Dates"),
			},
		},
		{
			Key:         "callbacks",
			DisplayName: "Callbacks",
			PrimaryKey:  "id",
			Fields: []FieldDescriptor{
				field("id", "Callback ID", TypeText, "Basic"),
				field("debtor_id", "Debtor ID", TypeText, "Basic"),
				field("notes", "Notes", TypeText, "Basic"),
				field("status", "Status", TypeText, "Status"),
				field("is_completed", "Completed", TypeBoolean, "Status"),
				field("callback_at", "Callback Time", TypeDateTime, "Dates"),
				field("agent_id", "Agent", TypeText, "Assignment"),
			},
		},
	}
}

// DefaultCatalog builds the catalog from DefaultEntities.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultEntities()...)
}
