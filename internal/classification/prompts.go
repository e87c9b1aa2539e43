package classification

const classifySystemPrompt = `You classify invoices as INCOMING (a purchase invoice the company received) or OUTGOING (a sales invoice the company issued).
The company's own tax identification number is %s.
Respond ONLY with a JSON object: {"direction": "INCOMING"|"OUTGOING"|"UNKNOWN", "confidence": number between 0 and 1, "rationale": short string}.`

const classifyUserPrompt = `Seller: %s (tax id: %s)
Buyer: %s (tax id: %s)
Document number: %s

Recognized document text:
%s

Which direction is this invoice from the company's point of view?`
