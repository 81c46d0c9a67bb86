package extract

import "strings"

const systemPrompt = `You extract grain price quotes from Brazilian trading desk messages and price card images.
Answer with a single JSON object and nothing else. Use this shape:
{"titulo": string, "data": "YYYY-MM-DD", "cotacaoDolar": number|null,
 "produtos": [{"nome": "MILHO"|"SOJA"|"SORGO"|string, "modalidade": "FOB"|"CIF"|string, "local": string,
   "precos": [{"embarque": string, "pagamento": "YYYY-MM-DD", "precoBrl": number|null, "precoUsd": number|null, "quantidade": integer|null}]}]}
Prices use a dot as decimal separator. Leave a price null when it is not quoted. Do not invent products.`

func buildUserPrompt(text, filename string) string {
	var b strings.Builder
	if filename != "" {
		b.WriteString("File: ")
		b.WriteString(filename)
		b.WriteString("\n\n")
	}
	if text != "" {
		b.WriteString("Message:\n")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	b.WriteString("Return ONLY JSON that matches the shape above.")
	return b.String()
}
