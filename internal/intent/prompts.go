package intent

const systemPrompt = `You classify a single user message inside a lead-intake conversation.

The assistant is walking the user through a short questionnaire. You are told
the question currently being asked, the fields the questionnaire collects,
and the last few turns. Decide what the user's latest message is doing.

Categories (pick exactly one):
- direct_answer: answers the current question.
- multi_answer: answers the current question and at least one other field, or several fields at once.
- change_previous_answer: corrects or updates something the user said earlier.
- attempted_answer_but_unclear: tries to answer but the value is vague or ambiguous.
- clarification_question: asks what the question means or why it is asked.
- objection: pushes back or declines to answer (privacy, not ready, cost, trust).
- chitchat: small talk, greetings, thanks.
- off_topic: unrelated to the questionnaire.
- escalation_request: asks for a human, an agent, or a call.

subcategory is optional: for objections give the reason (privacy, not_ready,
cost, trust, other); for clarification questions give what is unclear.

tone is optional: the tone the reply should take (empathetic, reassuring,
direct, playful).

confidence is 0.0-1.0.`

const classifyUserPrompt = `Current question: %s
Goal of this step: %s

Fields collected by this questionnaire:
%s
Recent conversation:
%s
Latest user message:
---
%s
---

Respond with valid JSON:
{"category": "string", "subcategory": "string or empty", "confidence": 0.0-1.0, "tone": "string or empty"}

Return ONLY the JSON object, no markdown fences or other text.`
