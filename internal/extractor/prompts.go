package extractor

const systemPrompt = `You extract structured answers from a single user message in a lead-intake conversation.

Rules:
- Only use mapping keys from the field list you are given. Never invent keys.
- A message can answer several fields at once, including fields that have not been asked yet. Extract all of them.
- If the user changes an answer they gave earlier, extract the new value for that key.
- When a field hint gives a format, follow it: "around 500 thousand" for a hint asking for a plain number becomes "500000".
- Otherwise normalise values briefly: "3 months" for a timeline becomes "0-3 months".
- If nothing in the message answers any field, return an empty list.
- confidence is 0.0-1.0: high when the value is stated outright, lower when inferred.`

const extractionUserPrompt = `Fields currently being asked:
%s
All fields (mapping key, label, hint):
%s
Already collected:
%s
User message:
---
%s
---

Respond with valid JSON:
{"extractions": [{"mapping_key": "string", "value": "string", "confidence": 0.0-1.0}]}

Return ONLY the JSON object, no markdown fences or other text.`
