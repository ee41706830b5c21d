package models

// Requests for the bots HTTP endpoints. Defined in domain for consistency and reuse.

type ListBotsRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=started scheduled retrying stopped"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type BotTransactionsRequest struct {
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type CreateBotRequest struct {
	Kind              string   `json:"kind" default:"single" validate:"oneof=single dual"`
	Exchange          string   `json:"exchange" validate:"required"`
	QuoteAsset        string   `json:"quote_asset" validate:"required"`
	BaseAssets        []string `json:"base_assets" validate:"required,min=1,max=2,dive,required"`
	Weights           []string `json:"weights" validate:"omitempty,len=2"`
	Interval          string   `json:"interval" default:"daily" validate:"oneof=hourly daily weekly"`
	OrderType         string   `json:"order_type" default:"market" validate:"oneof=market limit"`
	QuoteAmount       string   `json:"quote_amount" validate:"required"`
	TargetQuoteAmount string   `json:"target_quote_amount"`
}

type UpdateBotRequest struct {
	Interval          string `json:"interval" validate:"omitempty,oneof=hourly daily weekly"`
	OrderType         string `json:"order_type" validate:"omitempty,oneof=market limit"`
	QuoteAmount       string `json:"quote_amount"`
	TargetQuoteAmount string `json:"target_quote_amount"`
}
