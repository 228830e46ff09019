package extract

const searchSystemPrompt = "Return JSON response"

const captionPrompt = `From this Instagram caption: '%s', find the exact YouTube podcast/channel and return the response in JSON format with the following fields: title, channel, channelLink, url (the exact YouTube URL for the podcast/channel). We want the full video of the podcast, not a clip.`

const transcriptPrompt = `Given podcast transcription: '%s', find the YouTube link/channel and return the response in JSON format with the following fields:
- title: The title of the YouTube video
- channel: The name of the YouTube channel
- channelLink: The link to the YouTube channel
- url: The direct URL to the YouTube video

If any field cannot be determined, use an empty string.`

const videoPrompt = `Please analyze this video and return the information in the following JSON format:
{
    "title": "The title of the YouTube video",
    "channel": "The name of the YouTube channel",
    "channelLink": "The link to the YouTube channel",
    "url": "The direct URL to the YouTube video"
}

If any field cannot be determined, use an empty string.`
