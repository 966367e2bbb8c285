package command

// Chat replies. They never carry internal error detail.
const (
	replySetOK       = "@%s Command has been set!"
	replySetUsage    = `@%s set command should be in the form: "%sset match command"!`
	replySetFail     = "@%s Command could not be set, ask the bot owner to check logs!"
	replyRemoveOK    = "@%s Command has been removed!"
	replyRemoveNone  = "@%s Command could not be removed, does it exist?"
	replyRemoveUsage = `@%s remove command should be in the form: "%sremove match"!`
	replyRemoveFail  = "@%s Command could not be removed, ask the bot owner to check logs!"
)
