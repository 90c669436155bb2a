package guardrail

import (
	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/textsignal"
)

// Class is a category of guardrail violation
type Class string

const (
	ClassEmpty        Class = "empty"
	ClassLength       Class = "length"
	ClassPromise      Class = "promise"
	ClassAIDisclosure Class = "ai_disclosure"
	ClassBlame        Class = "blame"
)

// ChannelLimit is the maximum reply length, in runes, per channel
var ChannelLimit = map[models.Channel]int{
	models.ChannelReview:   1000,
	models.ChannelQuestion: 1000,
	models.ChannelChat:     800,
}

// LimitFor returns the reply length bound of a channel
func LimitFor(channel models.Channel) int {
	if limit, ok := ChannelLimit[channel]; ok {
		return limit
	}
	return 500
}

var (
	// promises of money back, replacement or compensation
	promiseLexicon = textsignal.Lexicon{Name: "promise", Terms: []textsignal.Term{
		"вернем деньги", "вернём деньги", "вернем средства", "вернём средства", "вернем стоимость", "вернём стоимость",
		"возместим*", "возмещени*", "компенсир*", "компенсаци*", "заменим", "обменяем", "пришлем новый", "пришлём новый",
		"отправим новый", "гарантируем возврат", "оформим возврат", "бесплатн* замен*", "скидк* на следующ*", "промокод*",
		"refund", "refunds", "reimburse*", "compensat*", "replace it", "replacement", "send you a new", "free of charge", "voucher",
	}}

	// any admission that the reply was written by software
	aiLexicon = textsignal.Lexicon{Name: "ai", Terms: []textsignal.Term{
		"бот", "бота", "ботом", "чат бот*", "чатбот*", "нейросет*", "искусственн* интеллект*", "ии",
		"автоматическ*", "автоответ*", "сгенерир*", "языков* модел*", "chatgpt", "gpt*", "openai", "llm",
		"ai", "bot", "chatbot*", "artificial intelligence", "language model", "automated", "automatic*", "auto reply", "generated",
	}}

	// language that puts the fault on the customer
	blameLexicon = textsignal.Lexicon{Name: "blame", Terms: []textsignal.Term{
		"вы сами", "ваша вина", "по вашей вине", "вы виноват*", "вы неправильно", "неправильно использ*",
		"нужно было читать", "надо было читать", "вы не прочитали", "невнимательн*", "сами виноват*",
		"your fault", "you should have", "you failed to", "you didn't read", "you did not read", "misused", "user error",
	}}

	// customer asked for their money back or an exchange
	returnRequestLexicon = textsignal.Lexicon{Name: "return_request", Terms: []textsignal.Term{
		"возврат*", "вернуть", "верните", "хочу вернуть", "обмен*", "обменять", "замен*", "деньги назад",
		"return*", "refund*", "money back", "exchange", "replace*",
	}}
)

// ReturnRequested reports whether the customer's own message asks for a return or exchange
func ReturnRequested(source string) bool {
	return returnRequestLexicon.Contains(source)
}
